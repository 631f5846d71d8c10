package providers

import (
	"strings"

	"paybroker/internal/models"
)

// MapTransbankStatus normalizes an Oneclick transaction status.
func MapTransbankStatus(status string) string {
	switch strings.ToUpper(status) {
	case "AUTHORIZED":
		return models.PaymentStatusCompleted
	case "FAILED":
		return models.PaymentStatusFailed
	case "NULLIFIED":
		return models.PaymentStatusCancelled
	case "REVERSED", "PARTIALLY_NULLIFIED":
		return models.PaymentStatusRefunded
	default:
		return models.PaymentStatusPending
	}
}

// MapStripeStatus normalizes a charge status.
func MapStripeStatus(status string, refunded bool) string {
	if refunded {
		return models.PaymentStatusRefunded
	}
	switch status {
	case "succeeded":
		return models.PaymentStatusCompleted
	case "failed":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

// MapMercadoPagoStatus normalizes a payment status.
func MapMercadoPagoStatus(status string) string {
	switch status {
	case "approved", "authorized":
		return models.PaymentStatusCompleted
	case "rejected":
		return models.PaymentStatusFailed
	case "cancelled":
		return models.PaymentStatusCancelled
	case "refunded", "charged_back":
		return models.PaymentStatusRefunded
	default:
		return models.PaymentStatusPending
	}
}
