package stackforge

import (
	"errors"
	"net/http"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/grpc/codes"
)

// HTTPStatus returns the HTTP status the server's gateway answers with for err.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rtErr *runtime.Error
	if errors.As(err, &rtErr) {
		return gwruntime.HTTPStatusFromCode(codes.Code(rtErr.Code))
	}
	return http.StatusInternalServerError
}
