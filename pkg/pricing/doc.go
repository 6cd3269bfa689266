// Package pricing turns tenant usage into a billable amount and a provider quantity.
//
// # Overview
//
// Tenants are billed on three tiers selected purely from the worker count:
//
// Free:
//   - up to the free worker limit (default 4, raised per tenant by promo codes)
//   - no charge
//
// Standard:
//   - $2.00/month per worker above the free limit
//   - $15.00/month per shop after the first
//
// Enterprise:
//   - 100 workers or more
//   - flat $299.00/month regardless of workers or shops
//
// Yearly subscriptions are charged ten months for a twelve month term.
//
// # Quantity Encoding
//
// The billing provider only multiplies a fixed unit price by an integer quantity.
// Plans are configured with a unit price of one cent (ten cents for yearly plans),
// so the quantity sent to the provider is the monthly total expressed in cents:
//
//	calc := pricing.NewCalculator(pricing.DefaultParams())
//	qty := calc.SubscriptionQuantity(6, 2, nil) // 1900 => $19.00/month
//
// # Related Packages
//
//   - pkg/proration: Mid-cycle adjustment between two cost breakdowns
//   - pkg/subscriptions: Pushes quantities to the provider
package pricing
