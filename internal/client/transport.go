package client

import (
	"bytes"
	"io"
	"net/http"
)

// Transport attaches the coordinator's access token to every request.
// On a 401 it waits for a refreshed token and retries exactly once.
// When the refresh itself fails the error (e.g. ErrSessionLost) is returned.
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := replayable(req)
	if err != nil {
		return nil, err
	}

	token, gen := t.Coordinator.AcquireToken()
	res, err := t.send(req, getBody, token)
	// トークン無しの401（ログイン失敗など）はリトライしない
	if err != nil || res.StatusCode != http.StatusUnauthorized || token == "" {
		return res, err
	}
	discard(res)

	newToken, err := t.Coordinator.OnUnauthorized(req.Context(), gen)
	if err != nil {
		return nil, err
	}

	// 2回目の401はそのまま返す
	return t.send(req, getBody, newToken)
}

func (t *Transport) send(req *http.Request, getBody func() (io.ReadCloser, error), token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
	}
	return t.base().RoundTrip(r)
}

// bodyを2回送れるようにする（reqは書き換えない）
func replayable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	// 送るのは GetBody の複製なので、元の body はここで閉じる
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

func discard(res *http.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
