package postgres

import "loanetl/internal/storage"

func init() {
	storage.Register("postgres", New)
}
