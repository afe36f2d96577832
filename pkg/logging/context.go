package logging

import (
	"context"
)

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	ServiceNameKey = "service_name"
	FileNameKey    = "file_name"
	PackageIDKey   = "package_id"
)

type ctxKey string

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, ctxKey(MessageIDKey), messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func WithFileName(ctx context.Context, fileName string) context.Context {
	return context.WithValue(ctx, ctxKey(FileNameKey), fileName)
}

func WithPackageID(ctx context.Context, packageID string) context.Context {
	return context.WithValue(ctx, ctxKey(PackageIDKey), packageID)
}

func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return getString(ctx, MessageIDKey)
}

func GetServiceName(ctx context.Context) string {
	return getString(ctx, ServiceNameKey)
}

func GetFileName(ctx context.Context) string {
	return getString(ctx, FileNameKey)
}

func GetPackageID(ctx context.Context) string {
	return getString(ctx, PackageIDKey)
}

func getString(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the key/value pairs stored in ctx in a stable order.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []string{TraceIDKey, MessageIDKey, ServiceNameKey, FileNameKey, PackageIDKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
