// internal/service/risk/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 错误分类：接口层用 errors.Is 判断类别并映射为 HTTP 状态码
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrDependency = errors.New("dependency unavailable")

	ErrProfileNotFound = &NotFoundError{Resource: "risk profile"}
	ErrOrderNotFound   = &NotFoundError{Resource: "order"}
)

// ValidationError 表示输入不合法（例如数量 <= 0）
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError 表示资源不存在。
// 按约定，风险档案缺失不是错误，调用方会把它当作全新的默认档案。
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// Is 让带 Key 的实例也能匹配同类的哨兵错误 (ErrProfileNotFound / ErrOrderNotFound)
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	var nf *NotFoundError
	if errors.As(target, &nf) {
		return nf.Resource == e.Resource && nf.Key == ""
	}
	return false
}

// WithKey 基于哨兵错误生成带具体键的实例
func (e *NotFoundError) WithKey(key string) *NotFoundError {
	return &NotFoundError{Resource: e.Resource, Key: key}
}

// DependencyError 表示外部存储/中间件不可用。它总是向上传递，由调用方决定是否重试。
type DependencyError struct {
	Dependency string
	Err        error
}

func NewDependencyError(dependency string, err error) *DependencyError {
	return &DependencyError{Dependency: dependency, Err: err}
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}
