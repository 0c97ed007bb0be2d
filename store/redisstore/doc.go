// Package redisstore implements twofactor.Store on Redis.
//
// Every key of one user shares the hash tag {userID}, so the multi-key
// scripts and transactions below stay valid on Redis Cluster.
//
//	<prefix>:{<user>}:profile   hash  method, secret, email, enabled_at
//	<prefix>:{<user>}:codes     hash  hex(code hash) -> "<position>:<created ms>"
//	<prefix>:{<user>}:used      hash  hex(code hash) -> used ms
//	<prefix>:{<user>}:devices   hash  fingerprint -> JSON device
//	<prefix>:{<user>}:activity  list  JSON records, newest first
//
// Backup code consumption is a single Lua script around HSETNX, so exactly
// one concurrent caller can mark a code as used.
package redisstore
