/*
Package hotpath provides an embeddable, low-latency HTTP/1.1 serving engine.

Routes are registered as (method, path pattern, handler) triples and can be
added while the engine is serving. Every request is resolved through three
tiers, cheapest first:

  - an immutable snapshot of all registered routes, swapped atomically on
    each registration
  - a 32-shard hot cache with a lock-free hot slot per shard and
    approximate LFU eviction
  - the full registry: exact key lookup, then a pattern scan in
    registration order

Patterns use ":name" segments that match exactly one non-empty path
segment. Handlers receive the decoded JSON body for POST, PUT and PATCH
requests and return a status code and a JSON payload.

Quick Start

	package main

	import (
	    "context"

	    "github.com/searchktools/hotpath/app"
	    "github.com/searchktools/hotpath/config"
	    "github.com/searchktools/hotpath/core/http"
	)

	func main() {
	    application, err := app.New(config.New())
	    if err != nil {
	        panic(err)
	    }

	    engine := application.Engine()
	    engine.GET("/hello", func(ctx context.Context, opts http.Options) http.ResponseData {
	        return http.OK([]byte(`{"message":"hello"}`))
	    })

	    if err := application.Run(context.Background()); err != nil {
	        panic(err)
	    }
	}

Handlers that live outside Go, behind a single-threaded runtime, are
registered through core/bridge. Callbacks run on a bridge.Executor and are
answered with 504 when they do not complete within the callback timeout.

Modules

  - app: Application lifecycle, signals, metrics server, config reload
  - config: Flags, environment, YAML file and file watching
  - core: Engine, dispatcher and connection acceptor
  - core/router: Method ids, route keys, matcher and registry
  - core/cache: Sharded hot route cache
  - core/http: Request framing, pipelining and response encoding
  - core/bridge: Callback boundary for foreign handlers
  - core/codec: JSON and protobuf payload codecs
  - core/observability: Prometheus metrics and the metrics server
  - core/logging: zap logging with a runtime adjustable level
  - core/pools: Byte buffer pooling
*/
package hotpath
