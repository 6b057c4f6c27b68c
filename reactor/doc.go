// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the platform backend behind the event loop: an
// epoll readiness reactor on Linux and an IOCP completion reactor on Windows.
//
// The loop core depends only on Backend. Protocol layers that need the
// backend's natural granularity type-assert to Readiness (per-descriptor
// interest) or, on Windows, to *IOCP (per-operation completion tokens). The
// two models are deliberately not unified beyond Backend.
package reactor
