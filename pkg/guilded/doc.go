// Copyright 2024-2026 Aiku AI

// Package guilded is a client for the Guilded user API. A Client logs in
// over REST, keeps gateway shards open through package gateway, caches
// the entities it sees and publishes typed events on a Bus.
//
// Subscribers run on the goroutine that produced the event and must not
// call Client.Close synchronously.
package guilded
