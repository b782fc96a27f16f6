package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// headerTracker はレスポンスヘッダー送信済みかを記録する。
// SSEのように書き込み途中でpanicした場合、500を重ねて書かないために使う。
type headerTracker struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *headerTracker) WriteHeader(code int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerがFlushやデッドライン設定に使う。
func (t *headerTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// NewRecoveryMiddleware はハンドラーのpanicを回復して500を返すミドルウェアを生成する。
// http.ErrAbortHandlerはnet/httpの中断シグナルなので再送出する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &headerTracker{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				slog.Error("panicを回復しました",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("headers_sent", tw.wroteHeader),
					slog.String("stack", string(debug.Stack())),
				)
				if !tw.wroteHeader {
					WriteInternalServerError(tw)
				}
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
