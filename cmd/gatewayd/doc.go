// Package main (cmd/gatewayd) runs the template gateway server.
//
// The server keeps the gateway state in memory, appends every committed
// record to a SQLite record log and serves the JSON API described in package
// gatewayhandler. State can be checkpointed into any storage backend
// (file://, s3://, vault://, ipfs://) periodically and on shutdown, and
// restored at startup with --restore-checkpoint.
//
// Template code is compiled into the binary. The built-in catalog is deployed
// on every start in the same order, so implementation addresses recorded in a
// checkpoint resolve again after a restart.
//
// Account balances are the only source of attached payment. A fresh gateway
// can be seeded with --genesis-balance=ADDRESS=AMOUNT, applied by the
// bootstrap owner; afterwards admins credit accounts through the fund endpoint.
//
// Storage credentials are read from the environment: GATEWAY_S3_ACCESS_KEY,
// GATEWAY_S3_SECRET_KEY, GATEWAY_VAULT_TOKEN and GATEWAY_VAULT_SCHEME.
//
// Example usage for local development:
//
//	gatewayd --listen-addr=127.0.0.1:8080 \
//	    --records-db=data/records.db \
//	    --checkpoint-storage=file:///var/lib/gateway/checkpoints \
//	    --checkpoint-interval=5m \
//	    --bootstrap-owner=0x00000000000000000000000000000000000a11ce \
//	    --genesis-balance=0x00000000000000000000000000000000000b0b00=1000000 \
//	    --tracing-exporter=stdout
package main
