//go:build !unix

package deviceio

func pageSize() int { return 4096 }
