package payment

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/mesafoods/checkout/internal/domain/order"
)

// Provider metadata is a flat string-to-string map. Scalar draft fields map
// to individual keys; line items are JSON-serialized into a single key since
// the provider does not accept structured values.
const (
	metaCompanyID   = "company_id"
	metaAddressID   = "address_id"
	metaUserID      = "user_id"
	metaSubtotal    = "subtotal"
	metaDeliveryFee = "delivery_fee"
	metaDiscount    = "discount"
	metaTotal       = "total"
	metaCouponID    = "coupon_id"
	metaNotes       = "notes"
	metaLineItems   = "line_items"
)

// EncodeDraft serializes a draft into provider session metadata.
func EncodeDraft(d *order.Draft) (map[string]string, error) {
	items, err := encodeLineItems(d.LineItems)
	if err != nil {
		return nil, errors.Wrap(err, "encode line items")
	}

	md := map[string]string{
		metaCompanyID:   d.CompanyID,
		metaAddressID:   d.AddressID,
		metaUserID:      d.UserID,
		metaSubtotal:    d.Subtotal.String(),
		metaDeliveryFee: d.DeliveryFee.String(),
		metaDiscount:    d.Discount.String(),
		metaTotal:       d.Total.String(),
		metaLineItems:   items,
	}
	if d.CouponID != "" {
		md[metaCouponID] = d.CouponID
	}
	if d.Notes != "" {
		md[metaNotes] = d.Notes
	}
	return md, nil
}

// DecodeDraft reconstructs a draft from session metadata. The result feeds
// the post-payment total validation, so every amount field is required.
func DecodeDraft(md map[string]string) (*order.Draft, error) {
	d := &order.Draft{
		CompanyID: md[metaCompanyID],
		AddressID: md[metaAddressID],
		UserID:    md[metaUserID],
		CouponID:  md[metaCouponID],
		Notes:     md[metaNotes],
	}

	var err error
	amounts := []struct {
		key string
		dst *decimal.Decimal
	}{
		{metaSubtotal, &d.Subtotal},
		{metaDeliveryFee, &d.DeliveryFee},
		{metaDiscount, &d.Discount},
		{metaTotal, &d.Total},
	}
	for _, a := range amounts {
		raw, ok := md[a.key]
		if !ok {
			return nil, errors.Errorf("metadata missing %q", a.key)
		}
		if *a.dst, err = decimal.NewFromString(raw); err != nil {
			return nil, errors.Wrapf(err, "parse %q", a.key)
		}
	}

	raw, ok := md[metaLineItems]
	if !ok {
		return nil, errors.Errorf("metadata missing %q", metaLineItems)
	}
	if d.LineItems, err = decodeLineItems(raw); err != nil {
		return nil, errors.Wrap(err, "decode line items")
	}

	return d, nil
}

func encodeLineItems(items []order.LineItem) (string, error) {
	e := &jx.Encoder{}
	e.ArrStart()
	for _, item := range items {
		e.Obj(func(e *jx.Encoder) {
			e.Field("product_id", func(e *jx.Encoder) { e.Str(item.ProductID) })
			e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
			e.Field("unit_price", func(e *jx.Encoder) { e.Str(item.UnitPrice.String()) })
			e.Field("subtotal", func(e *jx.Encoder) { e.Str(item.Subtotal.String()) })
		})
	}
	e.ArrEnd()
	return e.String(), nil
}

func decodeLineItems(raw string) ([]order.LineItem, error) {
	var items []order.LineItem

	d := jx.DecodeStr(raw)
	if err := d.Arr(func(d *jx.Decoder) error {
		var item order.LineItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "product_id":
				item.ProductID, err = d.Str()
			case "name":
				item.Name, err = d.Str()
			case "quantity":
				item.Quantity, err = d.Int()
			case "unit_price":
				item.UnitPrice, err = decodeDecimal(d)
			case "subtotal":
				item.Subtotal, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	}); err != nil {
		return nil, err
	}

	return items, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}
