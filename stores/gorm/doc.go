//go:build !wasm
// +build !wasm

// Package gorm keeps the access credential in a relational table through
// GORM, so any dialect GORM drives can hold the session. The table
// access_tokens has one row per profile.
//
//	db, _ := gorm.Open(sqlite.Open("session.db"), &gorm.Config{})
//	if err := gormstore.AutoMigrate(db); err != nil { ... }
//	tokens := gormstore.NewTokenStore(db, "default")
//
// Write failures are logged and leave the previous row in place.
package gorm
