// Package rpc defines the tripsync.v1 Connect services: their procedures,
// JSON messages, handler constructors and clients.
package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	DocumentServiceName = "tripsync.v1.DocumentService"
	SessionServiceName  = "tripsync.v1.SessionService"
)

const (
	DocumentServiceCreateProcedure    = "/tripsync.v1.DocumentService/Create"
	DocumentServiceSetProcedure       = "/tripsync.v1.DocumentService/Set"
	DocumentServiceDeleteProcedure    = "/tripsync.v1.DocumentService/Delete"
	DocumentServiceSubscribeProcedure = "/tripsync.v1.DocumentService/Subscribe"
	SessionServiceIssueTokenProcedure = "/tripsync.v1.SessionService/IssueToken"
)

// DocumentServiceHandler serves shared trip collections.
type DocumentServiceHandler interface {
	Create(context.Context, *connect.Request[CreateRequest]) (*connect.Response[CreateResponse], error)
	Set(context.Context, *connect.Request[SetRequest]) (*connect.Response[SetResponse], error)
	Delete(context.Context, *connect.Request[DeleteRequest]) (*connect.Response[DeleteResponse], error)
	Subscribe(context.Context, *connect.Request[SubscribeRequest], *connect.ServerStream[Snapshot]) error
}

// SessionServiceHandler issues participant identities.
type SessionServiceHandler interface {
	IssueToken(context.Context, *connect.Request[IssueTokenRequest]) (*connect.Response[IssueTokenResponse], error)
}

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
}

// NewDocumentServiceHandler builds an HTTP handler for svc and returns the
// path it should be mounted on.
func NewDocumentServiceHandler(svc DocumentServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	create := connect.NewUnaryHandler(DocumentServiceCreateProcedure, svc.Create, opts...)
	set := connect.NewUnaryHandler(DocumentServiceSetProcedure, svc.Set, opts...)
	del := connect.NewUnaryHandler(DocumentServiceDeleteProcedure, svc.Delete, opts...)
	subscribe := connect.NewServerStreamHandler(DocumentServiceSubscribeProcedure, svc.Subscribe, opts...)

	return "/" + DocumentServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DocumentServiceCreateProcedure:
			create.ServeHTTP(w, r)
		case DocumentServiceSetProcedure:
			set.ServeHTTP(w, r)
		case DocumentServiceDeleteProcedure:
			del.ServeHTTP(w, r)
		case DocumentServiceSubscribeProcedure:
			subscribe.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// NewSessionServiceHandler builds an HTTP handler for svc and returns the
// path it should be mounted on.
func NewSessionServiceHandler(svc SessionServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	issue := connect.NewUnaryHandler(SessionServiceIssueTokenProcedure, svc.IssueToken, handlerOptions(opts)...)

	return "/" + SessionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SessionServiceIssueTokenProcedure:
			issue.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// DocumentServiceClient is a client for tripsync.v1.DocumentService.
type DocumentServiceClient interface {
	Create(context.Context, *connect.Request[CreateRequest]) (*connect.Response[CreateResponse], error)
	Set(context.Context, *connect.Request[SetRequest]) (*connect.Response[SetResponse], error)
	Delete(context.Context, *connect.Request[DeleteRequest]) (*connect.Response[DeleteResponse], error)
	Subscribe(context.Context, *connect.Request[SubscribeRequest]) (*connect.ServerStreamForClient[Snapshot], error)
}

func clientOptions(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
}

// NewDocumentServiceClient creates a client for the server at baseURL.
func NewDocumentServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) DocumentServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &documentServiceClient{
		create:    connect.NewClient[CreateRequest, CreateResponse](httpClient, baseURL+DocumentServiceCreateProcedure, opts...),
		set:       connect.NewClient[SetRequest, SetResponse](httpClient, baseURL+DocumentServiceSetProcedure, opts...),
		delete:    connect.NewClient[DeleteRequest, DeleteResponse](httpClient, baseURL+DocumentServiceDeleteProcedure, opts...),
		subscribe: connect.NewClient[SubscribeRequest, Snapshot](httpClient, baseURL+DocumentServiceSubscribeProcedure, opts...),
	}
}

type documentServiceClient struct {
	create    *connect.Client[CreateRequest, CreateResponse]
	set       *connect.Client[SetRequest, SetResponse]
	delete    *connect.Client[DeleteRequest, DeleteResponse]
	subscribe *connect.Client[SubscribeRequest, Snapshot]
}

func (c *documentServiceClient) Create(ctx context.Context, req *connect.Request[CreateRequest]) (*connect.Response[CreateResponse], error) {
	return c.create.CallUnary(ctx, req)
}

func (c *documentServiceClient) Set(ctx context.Context, req *connect.Request[SetRequest]) (*connect.Response[SetResponse], error) {
	return c.set.CallUnary(ctx, req)
}

func (c *documentServiceClient) Delete(ctx context.Context, req *connect.Request[DeleteRequest]) (*connect.Response[DeleteResponse], error) {
	return c.delete.CallUnary(ctx, req)
}

func (c *documentServiceClient) Subscribe(ctx context.Context, req *connect.Request[SubscribeRequest]) (*connect.ServerStreamForClient[Snapshot], error) {
	return c.subscribe.CallServerStream(ctx, req)
}

// SessionServiceClient is a client for tripsync.v1.SessionService.
type SessionServiceClient interface {
	IssueToken(context.Context, *connect.Request[IssueTokenRequest]) (*connect.Response[IssueTokenResponse], error)
}

// NewSessionServiceClient creates a client for the server at baseURL.
func NewSessionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) SessionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &sessionServiceClient{
		issueToken: connect.NewClient[IssueTokenRequest, IssueTokenResponse](
			httpClient, baseURL+SessionServiceIssueTokenProcedure, clientOptions(opts)...),
	}
}

type sessionServiceClient struct {
	issueToken *connect.Client[IssueTokenRequest, IssueTokenResponse]
}

func (c *sessionServiceClient) IssueToken(ctx context.Context, req *connect.Request[IssueTokenRequest]) (*connect.Response[IssueTokenResponse], error) {
	return c.issueToken.CallUnary(ctx, req)
}
