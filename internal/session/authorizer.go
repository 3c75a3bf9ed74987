package session

import (
	"context"
	"fmt"
	"sync"
)

// AuthorizationStatus はカメラへのアクセス権の状態
type AuthorizationStatus int

const (
	AuthorizationNotDetermined AuthorizationStatus = iota // 未確認（要求が必要）
	AuthorizationAuthorized
	AuthorizationDenied
	AuthorizationRestricted
)

func (s AuthorizationStatus) String() string {
	switch s {
	case AuthorizationNotDetermined:
		return "not_determined"
	case AuthorizationAuthorized:
		return "authorized"
	case AuthorizationDenied:
		return "denied"
	case AuthorizationRestricted:
		return "restricted"
	default:
		return fmt.Sprintf("authorization(%d)", int(s))
	}
}

// ParseAuthorizationStatus は文字列からアクセス権の状態を得る
func ParseAuthorizationStatus(s string) (AuthorizationStatus, error) {
	for _, st := range []AuthorizationStatus{
		AuthorizationNotDetermined,
		AuthorizationAuthorized,
		AuthorizationDenied,
		AuthorizationRestricted,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("不明なアクセス権の状態: %q", s)
}

// Authorizer はカメラへのアクセス権を管理するプラットフォーム側の協力者
type Authorizer interface {
	// Status は現在のアクセス権を返す
	Status(ctx context.Context) AuthorizationStatus

	// RequestAccess は利用者の判断を待ってアクセス可否を返す
	RequestAccess(ctx context.Context) (bool, error)
}

// StaticAuthorizer は固定の状態を返すAuthorizer
type StaticAuthorizer struct {
	mu       sync.Mutex
	status   AuthorizationStatus
	grant    bool
	requests int
}

// NewStaticAuthorizer は新しいStaticAuthorizerを作成する
// statusがNotDeterminedのとき、RequestAccessはgrantを返して状態を確定させる
func NewStaticAuthorizer(status AuthorizationStatus, grant bool) *StaticAuthorizer {
	return &StaticAuthorizer{status: status, grant: grant}
}

// AllowAll は常に許可するAuthorizerを返す
func AllowAll() *StaticAuthorizer {
	return NewStaticAuthorizer(AuthorizationAuthorized, true)
}

// Status は現在のアクセス権を返す
func (a *StaticAuthorizer) Status(_ context.Context) AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// RequestAccess はアクセス権を確定させて結果を返す
func (a *StaticAuthorizer) RequestAccess(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests++
	if a.status == AuthorizationNotDetermined {
		if a.grant {
			a.status = AuthorizationAuthorized
		} else {
			a.status = AuthorizationDenied
		}
	}
	return a.status == AuthorizationAuthorized, nil
}

// Requests はRequestAccessの呼び出し回数を返す
func (a *StaticAuthorizer) Requests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

// authorize はアクセス権を確認し、未確認なら要求して結果を待つ
func authorize(ctx context.Context, auth Authorizer) error {
	switch st := auth.Status(ctx); st {
	case AuthorizationAuthorized:
		return nil
	case AuthorizationNotDetermined:
		granted, err := auth.RequestAccess(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		if !granted {
			return ErrPermissionDenied
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, st)
	}
}
