// Command davhost-probe checks a running davhost through its admin
// listener and exits non-zero when the server is unhealthy. It is meant
// for container health checks.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"
)

type probeResult struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "admin listen address of the server")
	ready := flag.Bool("ready", false, "check /readyz instead of /healthz")
	timeout := flag.Duration("timeout", 3*time.Second, "request timeout")
	flag.Parse()

	path := "/healthz"
	if *ready {
		path = "/readyz"
	}
	res, err := probe(&fasthttp.Client{Name: "davhost-probe"}, "http://"+*addr+path, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe %s: %v\n", path, err)
		os.Exit(1)
	}
	if res.Version != "" {
		fmt.Printf("%s (%s)\n", res.Status, res.Version)
	} else {
		fmt.Println(res.Status)
	}
}

func probe(c *fasthttp.Client, url string, timeout time.Duration) (probeResult, error) {
	var res probeResult
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.DoTimeout(req, resp, timeout); err != nil {
		return res, errors.Wrap(err, "request")
	}
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return res, errors.Wrapf(err, "decode body (status %d)", resp.StatusCode())
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return res, errors.Newf("status %d: %s", resp.StatusCode(), res.Status)
	}
	return res, nil
}
