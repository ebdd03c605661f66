package handler

import (
	"net/http"

	"github.com/zapgate/gateway-server-go/internal/httputil"
)

func writeData(w http.ResponseWriter, status int, data any) {
	httputil.WriteData(w, status, data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	httputil.WriteMessage(w, status, message)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}
