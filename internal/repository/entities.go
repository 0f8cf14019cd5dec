package repository

// Entities lists every gorm model owned by this package, in creation order.
func Entities() []interface{} {
	return []interface{}{
		&TransactionEntity{},
		&PaymentAttemptEntity{},
		&CredentialEntity{},
	}
}
