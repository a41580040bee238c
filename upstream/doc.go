// Package upstream is the typed client for the TestLens REST API. It covers
// only the operations the adapter needs: test targets, run reports, test
// cases, and the pull-only notification feed. Authentication is a bearer
// token supplied per call; the token is validated by the platform, never
// locally.
package upstream
