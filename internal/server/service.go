package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
	"github.com/nainya/linksweep/pkg/report"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "linksweep.v1.LinkSweep"

// ScanRequest counts target occurrences in one document
type ScanRequest struct {
	Document *doctree.Node `json:"document"`
	Target   string        `json:"target"`
}

// ScanResponse lists per-field counts in traversal order
type ScanResponse struct {
	TotalOccurrences int            `json:"totalOccurrences"`
	Fields           []report.Field `json:"fields"`
}

// ComputePatchRequest asks for the sparse replacement patch of a document
type ComputePatchRequest struct {
	Document    *doctree.Node `json:"document"`
	Target      string        `json:"target"`
	Replacement string        `json:"replacement"`
}

// ComputePatchResponse carries the patch and the patched document
type ComputePatchResponse struct {
	Replacements int           `json:"replacements"`
	Patch        patch.Patch   `json:"patch"`
	Document     *doctree.Node `json:"document"`
}

// LinkRule mirrors patch.LinkRule on the wire
type LinkRule struct {
	RefField     string  `json:"refField,omitempty"`
	Predicate    *string `json:"predicate,omitempty"`
	NewRef       *string `json:"newRef,omitempty"`
	DerivedField string  `json:"derivedField,omitempty"`
	NewDerived   *string `json:"newDerived,omitempty"`
}

func (r LinkRule) rule() patch.LinkRule {
	return patch.LinkRule{
		RefField:     r.RefField,
		Predicate:    r.Predicate,
		NewRef:       r.NewRef,
		DerivedField: r.DerivedField,
		NewDerived:   r.NewDerived,
	}
}

// LinkedUpdateRequest evaluates a link rule against a document
type LinkedUpdateRequest struct {
	Document *doctree.Node `json:"document"`
	Rule     LinkRule      `json:"rule"`
}

// LinkedUpdateResponse carries the link rule patch
type LinkedUpdateResponse struct {
	Changes int         `json:"changes"`
	Patch   patch.Patch `json:"patch"`
}

// AnalyzeRequest scans the server's store
type AnalyzeRequest struct {
	Target      string   `json:"target"`
	Collections []string `json:"collections,omitempty"`
	BaseURL     string   `json:"baseUrl,omitempty"`
}

// AnalyzeResponse wraps the produced report
type AnalyzeResponse struct {
	Report *report.Report `json:"report"`
}

// HealthRequest is empty
type HealthRequest struct{}

// HealthResponse reports liveness
type HealthResponse struct {
	Healthy bool      `json:"healthy"`
	Status  string    `json:"status"`
	Started time.Time `json:"started"`
}

// StatsRequest is empty
type StatsRequest struct{}

// StatsResponse reports per-method call counts
type StatsResponse struct {
	UptimeSeconds int64            `json:"uptimeSeconds"`
	Operations    map[string]int64 `json:"operations"`
}

// LinkSweepServer is implemented by Server
type LinkSweepServer interface {
	Scan(context.Context, *ScanRequest) (*ScanResponse, error)
	ComputePatch(context.Context, *ComputePatchRequest) (*ComputePatchResponse, error)
	LinkedUpdate(context.Context, *LinkedUpdateRequest) (*LinkedUpdateResponse, error)
	Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// Messages travel as JSON inside a google.protobuf.BytesValue so the default
// proto codec carries them without generated types.

func unwrap(env *wrapperspb.BytesValue, v any) error {
	if err := json.Unmarshal(env.GetValue(), v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func wrap(v any) (*wrapperspb.BytesValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return wrapperspb.Bytes(raw), nil
}

func unary[Req, Resp any](method string, call func(LinkSweepServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			env := new(wrapperspb.BytesValue)
			if err := dec(env); err != nil {
				return nil, err
			}
			in := new(Req)
			if err := unwrap(env, in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LinkSweepServer), ctx, req.(*Req))
			}

			var out any
			var err error
			if interceptor == nil {
				out, err = handler(ctx, in)
			} else {
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
				out, err = interceptor(ctx, in, info, handler)
			}
			if err != nil {
				return nil, err
			}
			return wrap(out)
		},
	}
}

// ServiceDesc describes the LinkSweep service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LinkSweepServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Scan", LinkSweepServer.Scan),
		unary("ComputePatch", LinkSweepServer.ComputePatch),
		unary("LinkedUpdate", LinkSweepServer.LinkedUpdate),
		unary("Analyze", LinkSweepServer.Analyze),
		unary("Health", LinkSweepServer.Health),
		unary("Stats", LinkSweepServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "linksweep.v1",
}

// Client calls a LinkSweep service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	req, err := wrap(in)
	if err != nil {
		return nil, err
	}
	env := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, env, opts...); err != nil {
		return nil, err
	}
	out := new(Resp)
	if err := json.Unmarshal(env.GetValue(), out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}

func (c *Client) Scan(ctx context.Context, in *ScanRequest, opts ...grpc.CallOption) (*ScanResponse, error) {
	return invoke[ScanResponse](ctx, c, "Scan", in, opts)
}

func (c *Client) ComputePatch(ctx context.Context, in *ComputePatchRequest, opts ...grpc.CallOption) (*ComputePatchResponse, error) {
	return invoke[ComputePatchResponse](ctx, c, "ComputePatch", in, opts)
}

func (c *Client) LinkedUpdate(ctx context.Context, in *LinkedUpdateRequest, opts ...grpc.CallOption) (*LinkedUpdateResponse, error) {
	return invoke[LinkedUpdateResponse](ctx, c, "LinkedUpdate", in, opts)
}

func (c *Client) Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error) {
	return invoke[AnalyzeResponse](ctx, c, "Analyze", in, opts)
}

func (c *Client) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c, "Health", in, opts)
}

func (c *Client) Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c, "Stats", in, opts)
}
