// Package location decides whether the device position is good enough to open a
// recycling session at a bin.
//
// A [Gate] keeps the latest fix from a standing watch subscription and falls back to a
// bounded one-shot request when no fix has arrived yet. Fixes with an accuracy radius
// above the threshold are refused; an accuracy of zero or less means the platform did
// not report one and is accepted.
package location
