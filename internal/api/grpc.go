package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stocklens/internal/domain"
	"stocklens/internal/gather"
	"stocklens/internal/report"
	"stocklens/internal/strategy"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stocklens.v1.Analytics"

// AnalyticsServer is the gRPC surface of the pipeline. Requests and
// responses are google.protobuf.Struct documents with the same field names
// as the HTTP API.
type AnalyticsServer interface {
	Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Backtest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Report(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AnalyticsServiceDesc describes the Analytics service for grpc.Server.
var AnalyticsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalyticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ingest", Handler: unary("Ingest", AnalyticsServer.Ingest)},
		{MethodName: "Backtest", Handler: unary("Backtest", AnalyticsServer.Backtest)},
		{MethodName: "Report", Handler: unary("Report", AnalyticsServer.Report)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stocklens/v1/analytics.proto",
}

func unary(method string, call func(AnalyticsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalyticsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnalyticsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ---------------------------------------------------------------------------
// Service implementation
// ---------------------------------------------------------------------------

// AnalyticsService implements AnalyticsServer over the in-process pipeline.
type AnalyticsService struct {
	ingestor          *gather.Ingestor
	backtester        *strategy.Backtester
	reports           *report.Assembler
	defaultInvestment decimal.Decimal
}

var _ AnalyticsServer = (*AnalyticsService)(nil)

// NewAnalyticsService creates an AnalyticsService.
func NewAnalyticsService(ing *gather.Ingestor, bt *strategy.Backtester, reports *report.Assembler, defaultInvestment decimal.Decimal) *AnalyticsService {
	return &AnalyticsService{
		ingestor:          ing,
		backtester:        bt,
		reports:           reports,
		defaultInvestment: defaultInvestment,
	}
}

// Ingest fetches and stores a symbol's history. Request: {symbol}.
func (s *AnalyticsService) Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.ingestor.Ingest(ctx, stringField(req, "symbol"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(res)
}

// Backtest runs a strategy. Request: {symbol, initial_investment?, strategy?}.
func (s *AnalyticsService) Backtest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	inv, err := s.investment(req)
	if err != nil {
		return nil, toStatus(err)
	}
	name := stringField(req, "strategy")
	if name == "" {
		name = s.backtester.Engine().DefaultStrategy()
	}
	res, err := s.backtester.Run(ctx, stringField(req, "symbol"), inv, name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(struct {
		Strategy          string          `json:"strategy"`
		InitialInvestment decimal.Decimal `json:"initial_investment"`
		domain.BacktestResult
	}{name, inv, res})
}

// Report assembles a report. Request: {symbol, initial_investment?, format?}.
// A pdf report is returned base64-encoded in the "pdf" field.
func (s *AnalyticsService) Report(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	inv, err := s.investment(req)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.reports.Assemble(ctx, report.Request{
		Symbol:            stringField(req, "symbol"),
		InitialInvestment: inv,
		Format:            domain.Format(stringField(req, "format")),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Format == domain.FormatPDF {
		return structpb.NewStruct(map[string]any{
			"symbol":   res.Symbol,
			"format":   string(res.Format),
			"filename": res.Filename,
			"cached":   res.Cached,
			"pdf":      base64.StdEncoding.EncodeToString(res.PDF),
		})
	}
	return toStruct(res.Data)
}

// investment reads initial_investment as a number or decimal string.
func (s *AnalyticsService) investment(req *structpb.Struct) (decimal.Decimal, error) {
	v, ok := req.GetFields()["initial_investment"]
	if !ok {
		return s.defaultInvestment, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: initial_investment: %v", domain.ErrInvalidInput, err)
		}
		return d, nil
	case *structpb.Value_NullValue:
		return s.defaultInvestment, nil
	}
	return decimal.Zero, fmt.Errorf("%w: initial_investment must be a number or string", domain.ErrInvalidInput)
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain error kinds onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrUpstream):
		return status.Error(codes.Unavailable, "upstream data provider failed")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// AnalyticsClient calls the Analytics service.
type AnalyticsClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalyticsClient wraps a client connection.
func NewAnalyticsClient(cc grpc.ClientConnInterface) *AnalyticsClient {
	return &AnalyticsClient{cc: cc}
}

func (c *AnalyticsClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Ingest calls Analytics.Ingest.
func (c *AnalyticsClient) Ingest(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Ingest", req, opts...)
}

// Backtest calls Analytics.Backtest.
func (c *AnalyticsClient) Backtest(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Backtest", req, opts...)
}

// Report calls Analytics.Report.
func (c *AnalyticsClient) Report(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Report", req, opts...)
}
