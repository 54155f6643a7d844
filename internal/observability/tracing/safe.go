package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"invite.link":  {},
	"display_name": {},
	"api_key":      {},
}

// ExtractContext restores remote span context from inbound carriers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry invite links or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns a copy of err with invite links redacted from its message.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(RedactLinks(err.Error()))
}

// RedactLinks replaces invite URLs in s with a placeholder.
func RedactLinks(s string) string {
	fields := strings.Fields(s)
	changed := false
	for i, f := range fields {
		if strings.Contains(f, "t.me/") || strings.HasPrefix(f, "https://") || strings.HasPrefix(f, "http://") {
			fields[i] = "[link]"
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.Join(fields, " ")
}
