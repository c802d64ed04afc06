package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/snapncook/snapclient/internal/services/recommend"
	"github.com/snapncook/snapclient/pkg/httpext"
)

type Recommender interface {
	Resolve(ctx context.Context, subjectID int64, kind recommend.Kind) ([]recommend.Recipe, error)
	ResolvePublic(ctx context.Context, subjectID int64, kind recommend.Kind) ([]recommend.Recipe, error)
}

// HandleRecommend serves /recommend/{kind}/{id}; ?public=true skips the
// private lookup.
func HandleRecommend(recommender Recommender, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	kind, err := recommend.ParseKind(vars["kind"])
	if err != nil {
		writeError(w, "recommend", err)
		return
	}
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		httpext.JsonError(w, "id must be an integer", http.StatusBadRequest)
		return
	}

	resolve := recommender.Resolve
	if public, _ := strconv.ParseBool(r.URL.Query().Get("public")); public {
		resolve = recommender.ResolvePublic
	}

	recipes, err := resolve(r.Context(), id, kind)
	if err != nil {
		writeError(w, "recommend", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, recipes)
}
