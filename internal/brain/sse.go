package brain

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// maxSSELine は SSE 1 行の上限。長いツール出力を含む応答でも切れないようにする。
const maxSSELine = 1 << 20

// readSSE は Server-Sent Events の data 行を順に fn に渡す。fn が true を返すと読み取りを終える。
func readSSE(r io.Reader, fn func(data []byte) (done bool, err error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	for sc.Scan() {
		line := bytes.TrimRight(sc.Bytes(), "\r")
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		done, err := fn(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return sc.Err()
}

// checkStatus は 200 以外のレスポンスを本文付きのエラーにする。
func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: API error %d: %s", provider, resp.StatusCode, string(body))
}
