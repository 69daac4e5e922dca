// Package storage defines the object storage contract shared by the s3://
// reader and sink, and the key generation used when a sink is pointed at a
// prefix instead of an object.
//
// Keys are hierarchical strings separated by "/". A sink URI ending in "/"
// writes each value to a fresh time-bucketed key under that prefix:
//
//	s3://archive/records/  ->  records/2024/10/08/14/0b6c...e1.json
package storage
