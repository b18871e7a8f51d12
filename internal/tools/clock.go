package tools

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// namedFormats maps the format argument to a layout. The zero value of
// the argument means RFC 3339.
var namedFormats = map[string]string{
	"rfc3339":  time.RFC3339,
	"date":     "2006-01-02",
	"time":     "15:04:05",
	"datetime": "2006-01-02 15:04:05",
	"kitchen":  time.Kitchen,
}

// DateTime returns the clock tool.
func DateTime() *Tool {
	return &Tool{
		Name:        "get_datetime",
		Description: "Get the current date and time. Defaults to RFC 3339; pass a named format for other renderings.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"format": map[string]any{
					"type":        "string",
					"description": "Optional format: one of 'rfc3339', 'date', 'time', 'datetime', 'kitchen', or 'unix'. Leave empty for RFC 3339.",
				},
			},
			"required": []string{},
		},
		Run: func(ctx context.Context, args map[string]any) string {
			now := time.Now()

			format, ok := stringArg(args, "format")
			if !ok || format == "" {
				return now.Format(time.RFC3339)
			}
			if format == "unix" {
				return strconv.FormatInt(now.Unix(), 10)
			}
			layout, ok := namedFormats[format]
			if !ok {
				return fmt.Sprintf("Error: unknown format %q", format)
			}
			return now.Format(layout)
		},
	}
}
