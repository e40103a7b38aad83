// Package tgui contains small helpers for building Telegram UI:
// inline keyboards, callback data packing, HTML-safe text and
// rune-safe truncation.
package tgui
