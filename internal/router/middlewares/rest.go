package middlewares

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/textileio/go-tradesubmit/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RESTAddress adds to the request context the {address} that must be present in the REST path.
func RESTAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		if !common.IsHexAddress(address) {
			w.Header().Set("Content-type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "invalid account address in path"})
			return
		}
		addr := common.HexToAddress(address)
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyAddress, addr.Hex()))
		next.ServeHTTP(w, r)
	})
}
