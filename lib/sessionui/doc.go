// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionui implements a terminal user interface for watching
// live agent sessions. Built on bubbletea (Elm architecture), it
// renders a scrolling transcript of the followed session — markdown
// message text, reasoning, tool invocations with their lifecycle —
// plus todo and diff panes and a connection footer.
//
// The UI reads folded state from a [client.Client] and treats its
// Updates channel as a repaint signal: every wake re-reads the full
// snapshot, so the render path never depends on seeing individual
// events. Reconnects keep the last snapshot on screen; only the
// footer changes. When the client gives up permanently the footer
// switches to a distinct "real-time updates unavailable" notice with
// a retry binding.
//
// Session switching goes through the [Dialer] interface: the picker
// overlay lists sessions from a [SessionLister], fuzzy-filtered with
// fzf's matcher, and dialing a selection swaps the active client.
package sessionui
