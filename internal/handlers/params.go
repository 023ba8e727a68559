package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/wa-console/instance-manager/internal/service"
)

// ListInstancesParams are the query parameters of GET /instances.
type ListInstancesParams struct {
	MaxPageSize *int    `form:"max_page_size,omitempty" json:"max_page_size,omitempty"`
	PageToken   *string `form:"page_token,omitempty" json:"page_token,omitempty"`
}

// instanceID binds the {id} path parameter. It writes a 400 and reports
// false when the value is not a UUID.
func instanceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, r, service.NewValidationError("invalid instance ID format"))
		return "", false
	}
	return id.String(), true
}

func bindListParams(w http.ResponseWriter, r *http.Request) (ListInstancesParams, bool) {
	var params ListInstancesParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "max_page_size", query, &params.MaxPageSize); err != nil {
		writeError(w, r, service.NewValidationError("max_page_size must be an integer"))
		return params, false
	}
	if err := runtime.BindQueryParameter("form", true, false, "page_token", query, &params.PageToken); err != nil {
		writeError(w, r, service.NewValidationError("invalid page_token"))
		return params, false
	}
	return params, true
}
