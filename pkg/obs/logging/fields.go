// Package logging provides a standard-fields builder on top of zap, mirroring
// the field-naming conventions used across the resolution core so every
// component logs the same vocabulary (component, operation, resource_type...).
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is an unordered set of structured logging attributes. Chain calls to
// build up context, then pass to a zap logger via ToZap().
type Fields map[string]interface{}

// NewFields returns an empty Fields set.
func NewFields() Fields { return Fields{} }

func (f Fields) Component(name string) Fields { f["component"] = name; return f }
func (f Fields) Operation(name string) Fields { f["operation"] = name; return f }

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) CorrelationID(id string) Fields {
	if id != "" {
		f["correlation_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields  { f["status_code"] = code; return f }
func (f Fields) Method(method string) Fields { f["method"] = method; return f }
func (f Fields) URL(url string) Fields       { f["url"] = url; return f }
func (f Fields) Count(n int) Fields          { f["count"] = n; return f }

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields { f["version"] = v; return f }

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToZap converts Fields into zap.Field values for structured logging calls.
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DatabaseFields seeds a Fields set for a storage-layer log line.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields seeds a Fields set for an HTTP transport log line.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// AIFields seeds a Fields set for a provider/LLM log line.
func AIFields(operation, model string) Fields {
	f := NewFields().Component("ai").Operation(operation)
	f["model"] = model
	return f
}

// MetricsFields seeds a Fields set for a metrics-recording log line.
func MetricsFields(operation, metricName string, value float64) Fields {
	f := NewFields().Component("metrics").Operation(operation)
	f["metric_name"] = metricName
	f["value"] = value
	return f
}

// SecurityFields seeds a Fields set for an authn/authz/sanitization log line.
func SecurityFields(operation, subject string) Fields {
	f := NewFields().Component("security").Operation(operation)
	f["subject"] = subject
	return f
}

// PerformanceFields seeds a Fields set for a latency/outcome log line.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	f := NewFields().Component("performance").Operation(operation).Duration(duration)
	f["success"] = success
	return f
}
