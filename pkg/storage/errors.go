package storage

import "github.com/cuemby/clusterctl/pkg/clerr"

var (
	errNotFound           = clerr.New(clerr.KindNotFound, "storage: row not found")
	errIntegrityViolation = clerr.New(clerr.KindIntegrityViolation, "storage: referenced cluster does not exist")
)
