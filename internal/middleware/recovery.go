package middleware

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
)

// panicGuard はpanic時に500を書けるかどうかを判断するためのラッパー。
type panicGuard struct {
	http.ResponseWriter
	wroteHeader bool
	hijacked    bool
}

func (g *panicGuard) WriteHeader(code int) {
	g.wroteHeader = true
	g.ResponseWriter.WriteHeader(code)
}

func (g *panicGuard) Write(b []byte) (int, error) {
	g.wroteHeader = true
	return g.ResponseWriter.Write(b)
}

// Hijack は/wsのアップグレードで使われる。以降のHTTPレスポンスは書けない。
func (g *panicGuard) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := g.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		g.hijacked = true
	}
	return conn, rw, err
}

func (g *panicGuard) Unwrap() http.ResponseWriter {
	return g.ResponseWriter
}

// NewRecoveryMiddleware はハンドラーのpanicを回復してログに残すミドルウェアを返す。
// ヘッダー送信前なら500を返す。アップグレード済みのソケットやレスポンス送信後は何も書かない。
// http.ErrAbortHandler はnet/httpの中断シグナルなので再送出する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := &panicGuard{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("upgraded", g.hijacked),
					slog.String("stack", string(debug.Stack())),
				)
				if g.hijacked || g.wroteHeader {
					return
				}
				WriteInternalServerError(g)
			}()
			next.ServeHTTP(g, r)
		})
	}
}
