// Package client 是下单流程调用 risk 服务的 HTTP 客户端
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"riskgate/internal/pkg/httpclient"
	"riskgate/internal/pkg/nacos"
	"riskgate/internal/service/risk/application"
	"riskgate/internal/service/risk/domain"
)

const serviceName = "risk-service"

// Resolver 返回 risk 服务的基础地址，例如 http://10.0.0.3:8085
type Resolver func(ctx context.Context) (string, error)

// StaticResolver 使用固定地址
func StaticResolver(baseURL string) Resolver {
	return func(context.Context) (string, error) {
		return baseURL, nil
	}
}

// NacosResolver 每次调用都从 Nacos 选一个健康实例
func NacosResolver(nc *nacos.Client) Resolver {
	return func(context.Context) (string, error) {
		ip, port, err := nc.DiscoverServiceInstance(serviceName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("http://%s:%d", ip, port), nil
	}
}

// RiskClient 封装了 /check 等接口的调用和错误映射
type RiskClient struct {
	http    *httpclient.Client
	resolve Resolver
}

func NewRiskClient(httpClient *httpclient.Client, resolve Resolver) *RiskClient {
	return &RiskClient{http: httpClient, resolve: resolve}
}

// CheckOrderAttempt 请求下单前的风险决策
func (c *RiskClient) CheckOrderAttempt(ctx context.Context, req *application.CheckRequest) (*application.CheckResponse, error) {
	var resp application.CheckResponse
	if err := c.do(ctx, http.MethodPost, "/check", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportOrderPlaced 在订单创建成功后上报
func (c *RiskClient) ReportOrderPlaced(ctx context.Context, req *application.OrderPlacedRequest) (*domain.RiskProfile, error) {
	var profile domain.RiskProfile
	if err := c.do(ctx, http.MethodPost, "/orders/placed", nil, req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ReportOrderCancelled 在订单取消后上报
func (c *RiskClient) ReportOrderCancelled(ctx context.Context, req *application.OrderCancelledRequest) (*domain.RiskProfile, error) {
	var profile domain.RiskProfile
	if err := c.do(ctx, http.MethodPost, "/orders/cancelled", nil, req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *RiskClient) GetProfile(ctx context.Context, email string) (*domain.RiskProfile, error) {
	var profile domain.RiskProfile
	if err := c.do(ctx, http.MethodGet, "/profiles", url.Values{"email": {email}}, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *RiskClient) ListAssessments(ctx context.Context, email string, limit int) ([]*domain.Assessment, error) {
	q := url.Values{"email": {email}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list []*domain.Assessment
	if err := c.do(ctx, http.MethodGet, "/assessments", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *RiskClient) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	base, err := c.resolve(ctx)
	if err != nil {
		return domain.NewDependencyError(serviceName, errors.Wrap(err, "resolve endpoint"))
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return mapError(c.http.DoJSON(ctx, method, target, in, out))
}

// mapError 把 HTTP 状态还原为领域错误类别
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return domain.NewDependencyError(serviceName, err)
	}
	switch {
	case se.StatusCode == http.StatusBadRequest:
		return domain.NewValidationError("request", se.Body)
	case se.StatusCode == http.StatusNotFound:
		return &domain.NotFoundError{Resource: "order", Key: se.Body}
	default:
		return domain.NewDependencyError(serviceName, err)
	}
}
