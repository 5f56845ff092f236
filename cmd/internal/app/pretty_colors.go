package app

import (
	"log/slog"
	"regexp"
	"strconv"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

func colorize(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(method string, color bool) string {
	switch method {
	case "GET", "HEAD":
		return colorize(method, ansiBlue, color)
	case "POST":
		return colorize(method, ansiGreen, color)
	case "PUT", "PATCH":
		return colorize(method, ansiYellow, color)
	case "DELETE":
		return colorize(method, ansiRed, color)
	default:
		return colorize(method, ansiMagenta, color)
	}
}

func colorizeStatusCode(status int, color bool) string {
	return colorize(strconv.Itoa(status), statusColor(statusClass(status)), color)
}

func colorizeStatusClass(class string, color bool) string {
	return colorize(class, statusColor(class), color)
}

func statusColor(class string) string {
	switch class {
	case "2xx":
		return ansiGreen
	case "3xx":
		return ansiCyan
	case "4xx":
		return ansiYellow
	case "5xx":
		return ansiRed
	default:
		return ""
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return colorize(s, ansiRed, color)
	case ms >= 250:
		return colorize(s, ansiYellow, color)
	default:
		return colorize(s, ansiDim, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success":
		return colorize(result, ansiGreen, color)
	case "redirect":
		return colorize(result, ansiCyan, color)
	case "client_error":
		return colorize(result, ansiYellow, color)
	case "server_error":
		return colorize(result, ansiRed, color)
	default:
		return result
	}
}

// colorizeLifecycle highlights invitation, payment and engine state names.
func colorizeLifecycle(s string, color bool) string {
	switch s {
	case "paid", "accepted", "confirmed", "success":
		return colorize(s, ansiGreen, color)
	case "unpaid", "pending", "verifying", "verifying_long", "payment_pending", "duplicate":
		return colorize(s, ansiYellow, color)
	case "rejected", "error", "store_error", "bad_signature", "config_missing", "unknown_reference":
		return colorize(s, ansiRed, color)
	default:
		return quoteIfNeeded(s)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
