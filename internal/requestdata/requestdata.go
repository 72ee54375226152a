package requestdata

import "context"

type requestDataKey struct{}

// RequestData is the authenticated principal attached to a request context
// by the auth middleware. UserID is the opaque identifier shared with the
// downstream services; nothing in the gateway interprets it beyond equality.
type RequestData struct {
	UserID      string
	TokenString string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}
