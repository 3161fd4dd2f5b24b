// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

// Package pprofapi provides a httpapi.API wrapper for the net/http/pprof
// package. This is in a separate package and not the main httpapi package
// because importing net/http/pprof tampers with http.DefaultServeMux, so
// importing this package is only safe if the application does not use
// the http.DefaultServeMux instance.
package pprofapi

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
)

// API is a httpapi.API wrapping net/http/pprof. Unlike the default facility
// in net/http/pprof, the respective endpoints are only accessible to
// authorized requesters.
type API struct {
	IsAuthorized func(r *http.Request) bool
}

// AddTo implements the httpapi.API interface.
func (a API) AddTo(r *mux.Router) {
	if a.IsAuthorized == nil {
		panic("API.AddTo() called with IsAuthorized == nil!")
	}

	a.attach(r, "/debug/pprof/", pprof.Index)
	a.attach(r, "/debug/pprof/cmdline", pprof.Cmdline)
	a.attach(r, "/debug/pprof/profile", pprof.Profile)
	a.attach(r, "/debug/pprof/symbol", pprof.Symbol)
	a.attach(r, "/debug/pprof/trace", pprof.Trace)
}

func (a API) attach(r *mux.Router, path string, inner http.HandlerFunc) {
	r.Methods("GET").Path(path).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.IdentifyEndpoint(r, path)
		httpapi.SkipRequestLog(r)
		if a.IsAuthorized(r) {
			inner(w, r)
		} else {
			http.Error(w, "forbidden", http.StatusForbidden)
		}
	})
}

// IsRequestFromLocalhost checks whether the given request originates from
// `127.0.0.1` or `::1`. It satisfies the interface of API.IsAuthorized.
func IsRequestFromLocalhost(r *http.Request) bool {
	ip := httpext.GetRequesterIPFor(r)
	return ip == "127.0.0.1" || ip == "::1"
}
