package memcatalog

import (
	"encoding/json"
	"time"

	"github.com/matt-riley/facetz/internal/core"
)

// Demo returns a small shop: products filed under a category tree and a
// color attribute, with brand and price metadata and sized variations, plus a
// couple of posts. Products carry stored filter definitions; posts do not.
func Demo() *Catalog {
	c := New()

	c.AddClassification(core.ClassificationInfo{Name: "category", Label: "Categories", Hierarchical: true}, "product")
	c.AddClassification(core.ClassificationInfo{Name: "pa_color", Label: "Color", Attribute: true}, "product")
	c.AddClassification(core.ClassificationInfo{Name: "topic", Label: "Topics"}, "post")

	c.AddEntry("category", core.Entry{ID: 1, Slug: "clothing", Name: "Clothing"})
	c.AddEntry("category", core.Entry{ID: 2, Slug: "shirts", Name: "Shirts", Parent: 1})
	c.AddEntry("category", core.Entry{ID: 3, Slug: "hoodies", Name: "Hoodies", Parent: 1})
	c.AddEntry("category", core.Entry{ID: 4, Slug: "toys", Name: "Toys"})
	c.AddEntry("pa_color", core.Entry{ID: 10, Slug: "red", Name: "Red", Color: "#d32f2f"})
	c.AddEntry("pa_color", core.Entry{ID: 11, Slug: "blue", Name: "Blue", Color: "#1976d2"})
	c.AddEntry("pa_color", core.Entry{ID: 12, Slug: "green", Name: "Green", Color: "#388e3c"})
	c.AddEntry("topic", core.Entry{ID: 20, Slug: "news", Name: "News"})
	c.AddEntry("topic", core.Entry{ID: 21, Slug: "guides", Name: "Guides"})

	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	product := func(id int64, title, slug string, offset time.Duration, category, color int64, price, brand string) Item {
		entries := map[string][]int64{"category": {category}}
		if color != 0 {
			entries["pa_color"] = []int64{color}
		}
		return Item{
			ID: id, Kind: "product", Title: title, Slug: slug, Date: day.Add(offset),
			Entries: entries,
			Meta:    map[string][]string{"price": {price}, "brand": {brand}},
		}
	}

	c.AddItem(product(100, "Red Shirt", "red-shirt", 0, 2, 10, "20", "acme"))
	c.AddItem(product(101, "Blue Shirt", "blue-shirt", time.Hour, 2, 11, "35.5", "globex"))
	c.AddItem(product(102, "Green Hoodie", "green-hoodie", 2*time.Hour, 3, 12, "60", "acme"))
	c.AddItem(product(103, "Teddy Bear", "teddy-bear", 3*time.Hour, 4, 0, "12", "initech"))

	draft := product(104, "Red Hoodie", "red-hoodie", 4*time.Hour, 3, 10, "55", "acme")
	draft.Status = "draft"
	c.AddItem(draft)

	size := func(id, parent int64, value string) Item {
		return Item{ID: id, ParentID: parent, Kind: "variation", Meta: map[string][]string{"attribute_pa_size": {value}}}
	}
	c.AddItem(size(200, 100, "small"))
	c.AddItem(size(201, 100, "large"))
	c.AddItem(size(202, 101, "small"))
	c.AddItem(size(203, 102, "medium"))

	c.AddItem(Item{ID: 300, Kind: "post", Title: "Launch news", Slug: "launch-news", Date: day, Entries: map[string][]int64{"topic": {20}}})
	c.AddItem(Item{ID: 301, Kind: "post", Title: "Sizing guide", Slug: "sizing-guide", Date: day.Add(time.Hour), Entries: map[string][]int64{"topic": {21}}})

	c.SetDefinitions("product", []core.Config{
		{Kind: core.KindClassification, Source: "category"},
		{Kind: core.KindAttribute, Source: "color", Options: json.RawMessage(`{"display_type":"color"}`)},
		{Kind: core.KindMetadata, Source: "brand"},
		{Kind: core.KindMetadata, Source: "price", Options: json.RawMessage(`{"display_type":"range","data_type":"numeric"}`)},
		{Kind: core.KindVariationAttribute, Source: "pa_size"},
	})

	return c
}
