//go:build !wasm
// +build !wasm

// Package gae keeps the access credential in Google Cloud Datastore, one
// AccessToken entity per profile. Useful when several processes on GCP share
// a session, or when a server-side host restores sessions for many profiles.
//
// An empty namespace selects the default one; a non-empty namespace isolates
// tenants that share a project:
//
//	dsClient, _ := datastore.NewClient(ctx, projectID)
//	tokens := gae.NewTokenStore(dsClient, "tenant-123", "default").WithContext(ctx)
//
// Tests run against the emulator when DATASTORE_EMULATOR_HOST is set.
package gae
