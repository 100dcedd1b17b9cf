package auth

import "context"

// subjectKey 是上下文中存储 Subject 的键类型。
type subjectKey struct{}

// WithSubject 将通过认证的委托主体写入上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 从上下文中取出委托主体，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	if subject, ok := ctx.Value(subjectKey{}).(*Subject); ok {
		subject.normalise()
		return subject
	}
	return nil
}

// PrincipalFromContext 返回上下文中主体的委托人标识。
// 支付意图的归属与每日限额都以该标识为准。
func PrincipalFromContext(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil {
		return subject.Username
	}
	return ""
}
