// Package catalog defines the boundary to the host collection system.
//
// The catalog owns entity lookup and authorization. This package only
// models the read side the archive pipeline needs: which media an item
// has, where their stored files live (storage id, extension), and any
// structured image-service descriptor attached to them. Two
// implementations are provided: BlobCatalog reads JSON documents from a
// bucket, StaticCatalog serves fixed records from memory.
package catalog
