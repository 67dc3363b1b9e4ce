//go:build e2e

// Package e2e holds end-to-end tests that drive the router against
// something other than a simulated clock: a real browser's RTP timing
// (bwe_test.go, browser_test.go, via cmd/chrome-interop) or a full
// send/receive loopback session (routerdemo_test.go, via pkg/demo).
//
// These tests are isolated from the standard test suite via build tags,
// since the browser-backed ones require a Chrome browser (auto-downloaded
// by Rod if not present) and are intended for CI pipelines or explicit
// local testing rather than every `go test ./...` run.
//
// Running E2E tests:
//
//	go test -tags=e2e ./e2e/...
//
// Running all tests except E2E:
//
//	go test ./...
//
// Browser-backed tests use:
//   - Rod for browser automation (Chrome DevTools Protocol)
//   - chrome-interop server for WebRTC signaling
//   - BrowserClient from pkg/bwe/testutil for Chrome helpers
//
// Test isolation:
// Each browser-backed test starts its own server on a random port and
// launches its own browser instance, so tests can run in parallel.
package e2e
