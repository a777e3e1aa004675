// Package shardclient implements the backend-connection layer of a cluster
// query router: dialers and handles for connections to shard and config
// server nodes, and the lifecycle hook that prepares every such connection
// before it is used for application traffic.
//
// The central type is ConnHook. A connection pool calls its OnCreate,
// OnDestroy and OnRelease methods around a connection's life. OnCreate
// authenticates the internal cluster user, installs per-RPC metadata
// interceptors (routing statistics on replies, impersonated identity on
// requests) and, for single master/replica connections, probes the node to
// detect whether it is a config server and in which mode it runs.
//
// The supporting subsystems live in subpackages: lasterror (per-session
// routing statistics), audit (impersonated identity metadata), topology
// (config server mode transitions), version (per-connection shard versions)
// and pool (a hooked connection pool).
package shardclient
