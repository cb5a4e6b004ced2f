package restyutil

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives one formatted request/response pair per call.
type Output interface {
	Write(id string, contents string)
}

// DirectoryOutput writes every message to its own file in a directory.
type DirectoryOutput struct {
	directory string
}

func NewDirectoryOutput(dir string) (DirectoryOutput, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return DirectoryOutput{}, err
	}
	return DirectoryOutput{directory: dir}, nil
}

func (o DirectoryOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message dump", "id", id, "err", err)
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]+`)

func messageId(n uint64, target string) string {
	host := "request"
	if parsed, err := url.Parse(target); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	return fmt.Sprintf("%04d-%s", n, unsafeChars.ReplaceAllString(host, "_"))
}

// DumpMessages writes every response the client receives, together with the
// request that produced it, to output. Ids are numbered in arrival order.
func DumpMessages(client *resty.Client, output Output) {
	if output == nil {
		return
	}
	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		n := atomic.AddUint64(&counter, 1)
		output.Write(messageId(n, res.Request.URL), formatMessage(res))
		return nil
	})
}
