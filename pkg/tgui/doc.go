// Package tgui provides small Telegram UI helpers: inline keyboard
// building and a codec for structured callback data.
package tgui
