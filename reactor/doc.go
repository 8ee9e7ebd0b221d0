// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the core poll-mode event reactor abstraction
// and cross-platform implementations for epoll (Linux) and IOCP
// (Windows), consumed by ioloop on each turn of the event loop.
package reactor
