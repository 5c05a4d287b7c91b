package entities

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// WorkingHours holds the shop's daily opening window in "HH:MM" wall-clock
// form. An end before the start means an overnight window (e.g. 18:00-02:00).
type WorkingHours struct {
	Start string `json:"start" bson:"start"`
	End   string `json:"end" bson:"end"`
}

// IsOpenAt reports whether the shop is open at the given local time.
func (w WorkingHours) IsOpenAt(t time.Time) bool {
	start, err := parseClockMinutes(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClockMinutes(w.End)
	if err != nil {
		return false
	}
	current := t.Hour()*60 + t.Minute()
	if end < start {
		return current >= start || current <= end
	}
	return current >= start && current <= end
}

func parseClockMinutes(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FAQItem is a question/answer pair shown to customers.
type FAQItem struct {
	Question string `json:"question" bson:"question"`
	Answer   string `json:"answer" bson:"answer"`
}

// ShopInfo holds shop-level configuration.
type ShopInfo struct {
	Name              string       `json:"name" bson:"name"`
	SalesDeskWhatsapp string       `json:"salesDeskWhatsapp" bson:"sales_desk_whatsapp"`
	AdminKey          string       `json:"adminKey,omitempty" bson:"admin_key"`
	WorkingHours      WorkingHours `json:"workingHours" bson:"working_hours"`
	About             string       `json:"about" bson:"about"`
	Disclaimer        string       `json:"disclaimer" bson:"disclaimer"`
	FAQs              []FAQItem    `json:"faqs" bson:"faqs"`
}

// MenuItem is a pizza or drink with per-size pricing.
type MenuItem struct {
	Name  string         `json:"name" bson:"name"`
	Sizes map[string]int `json:"sizes" bson:"sizes"`
}

// Deal is a promotional bundle with a fixed price.
type Deal struct {
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`
	Price       int    `json:"price" bson:"price"`
}

// Settings is the full shop configuration injected into a session at start.
type Settings struct {
	ID           string     `json:"id,omitempty" bson:"_id,omitempty"`
	ShopInfo     ShopInfo   `json:"shopInfo" bson:"shop_info"`
	Pizzas       []MenuItem `json:"pizzas" bson:"pizzas"`
	Drinks       []MenuItem `json:"drinks" bson:"drinks"`
	Deals        []Deal     `json:"deals" bson:"deals"`
	Riders       []Rider    `json:"riders" bson:"riders"`
	AllowedZones []string   `json:"allowedZones" bson:"allowed_zones"`
}

// Public returns a copy safe to hand to unauthenticated clients.
func (s *Settings) Public() Settings {
	out := *s
	out.ShopInfo.AdminKey = ""
	return out
}

const adminKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateAdminKey produces a random dashboard key for newly seeded shops.
func GenerateAdminKey(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(adminKeyAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate admin key: %w", err)
		}
		b.WriteByte(adminKeyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// DefaultSettings is the template used when a shop document does not exist
// yet. The admin key is left empty; the settings store fills in a generated
// one when it seeds the document.
func DefaultSettings(shopName string) *Settings {
	return &Settings{
		ShopInfo: ShopInfo{
			Name:              shopName,
			SalesDeskWhatsapp: "+923000000000",
			WorkingHours:      WorkingHours{Start: "11:00", End: "23:00"},
			About:             "We serve the best pizza in town with fresh ingredients and love.",
			Disclaimer:        "Delivery times are estimates. Prices subject to change without notice.",
			FAQs: []FAQItem{
				{Question: "Do you offer home delivery?", Answer: "Yes, we deliver to selected zones."},
				{Question: "Is the meat Halal?", Answer: "Yes, 100% Halal certified."},
			},
		},
		Pizzas: []MenuItem{
			{Name: "Chicken Tikka", Sizes: map[string]int{"Regular": 950, "Large": 1400}},
			{Name: "Chicken Fajita", Sizes: map[string]int{"Regular": 950, "Large": 1400}},
			{Name: "Margherita", Sizes: map[string]int{"Regular": 850, "Large": 1200}},
			{Name: "Veggie Supreme", Sizes: map[string]int{"Regular": 900, "Large": 1300}},
		},
		Drinks: []MenuItem{
			{Name: "Coke", Sizes: map[string]int{"Regular": 100, "Large": 150}},
			{Name: "Sprite", Sizes: map[string]int{"Regular": 100, "Large": 150}},
			{Name: "Water", Sizes: map[string]int{"Small": 60, "Large": 100}},
		},
		Deals: []Deal{
			{Name: "Mega Deal", Description: "1 Large Pizza + 1.5L Drink", Price: 1500},
			{Name: "Family Feast", Description: "2 Large Pizzas + 2 Drinks", Price: 3200},
		},
		Riders: []Rider{
			{Name: "Rider 1", Number: "0300-1111111"},
			{Name: "Rider 2", Number: "0300-2222222"},
		},
		AllowedZones: []string{"Downtown", "Gulshan", "DHA"},
	}
}
