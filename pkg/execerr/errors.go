package execerr

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code 执行错误码
type Code string

const (
	CodeSchemaMismatch            Code = "SCHEMA_MISMATCH"
	CodePlanTooDeep               Code = "PLAN_TOO_DEEP"
	CodeJoinKeyTypeMismatch       Code = "JOIN_KEY_TYPE_MISMATCH"
	CodeUnsortedInputForMergeJoin Code = "UNSORTED_INPUT_FOR_MERGE_JOIN"
	CodeAsofDirectionInvalid      Code = "ASOF_DIRECTION_INVALID"
	CodeNonMonotonicTimeColumn    Code = "NON_MONOTONIC_TIME_COLUMN"
	CodeUnsupportedAggregation    Code = "UNSUPPORTED_AGGREGATION_TYPE"
	CodeOutOfMemory               Code = "OUT_OF_MEMORY"
	CodeCancelled                 Code = "CANCELLED"
	CodeIO                        Code = "IO_ERROR"
	CodeExpressionEvaluation      Code = "EXPRESSION_EVALUATION_ERROR"
	CodeInvalidPlan               Code = "INVALID_PLAN"
)

// Error 执行错误，带出错节点和调用堆栈
type Error struct {
	Code     Code
	Message  string
	NodeID   string // 出错的物理节点，编译期错误可能为空
	NodeKind string
	Stack    []string
	Cause    error
}

// Error 接口实现
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Code))
	sb.WriteString("]")
	if e.NodeKind != "" || e.NodeID != "" {
		fmt.Fprintf(&sb, " %s(%s)", e.NodeKind, e.NodeID)
	}
	sb.WriteString(" ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// StackTrace 返回调用堆栈
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New 创建错误
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   cause,
	}
}

// Newf 创建带格式化消息的错误
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStackTrace(),
	}
}

// Wrap 包装协作方错误，已经是执行错误时保留其堆栈
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return &Error{
			Code:     code,
			Message:  message,
			NodeID:   execErr.NodeID,
			NodeKind: execErr.NodeKind,
			Stack:    execErr.Stack,
			Cause:    err,
		}
	}
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   err,
	}
}

// WithNode 为错误补充节点信息
// 执行错误且尚无节点信息时原地补充；其他错误包装为 fallback 码
func WithNode(err error, fallback Code, nodeID, nodeKind string) error {
	if err == nil {
		return nil
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		if execErr.NodeID == "" {
			execErr.NodeID = nodeID
			execErr.NodeKind = nodeKind
		}
		return err
	}
	return &Error{
		Code:     fallback,
		Message:  "operator failed",
		NodeID:   nodeID,
		NodeKind: nodeKind,
		Stack:    captureStackTrace(),
		Cause:    err,
	}
}

// Is 判断错误链中是否存在指定错误码
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// CodeOf 返回错误链中第一个执行错误的错误码
func CodeOf(err error) Code {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	return ""
}

// Cancelled 查询取消错误
func Cancelled(cause error) *Error {
	return New(CodeCancelled, "query cancelled", cause)
}

// FromTask 归一化并行任务返回的错误：执行错误原样返回，context 取消转为 CANCELLED
func FromTask(err error) error {
	if err == nil {
		return nil
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	return err
}

// captureStackTrace 捕获调用堆栈
func captureStackTrace() []string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc)
	if n == 0 {
		return []string{}
	}

	frames := runtime.CallersFrames(pc[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		file := frame.File
		if idx := strings.LastIndex(file, "/"); idx != -1 {
			file = file[idx+1:]
		}
		fn := frame.Function
		if idx := strings.LastIndex(fn, "/"); idx != -1 {
			fn = fn[idx+1:]
		}
		stack = append(stack, fmt.Sprintf("  at %s (%s:%d)", fn, file, frame.Line))
		if !more {
			break
		}
	}
	return stack
}
