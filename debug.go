//go:build debug

package sing

import (
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/sagernet/sing-reactor/common/log"
)

func init() {
	address := os.Getenv("REACTOR_PPROF")
	if address == "" {
		address = "127.0.0.1:8964"
	}
	go func() {
		err := http.ListenAndServe(address, nil)
		if err != nil {
			log.NewLogger("debug").Warn("pprof server: ", err)
		}
	}()
}
