// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plan

import (
	"github.com/stockparfait/netztransparenz/schema"
)

// Format of an upstream response; selected per endpoint, never sniffed.
type Format string

const (
	FormatCSV    Format = "csv"    // semicolon separated with a header row
	FormatJSON   Format = "json"   // a list of field maps
	FormatAnnual Format = "annual" // "category;value" lines
)

// PathStyle determines how the date window is encoded in the URL.
type PathStyle int

const (
	PathDateRange PathStyle = iota // .../{YYYY-MM-DD}/{YYYY-MM-DD}
	PathMonthly                    // .../{MM}/{YYYY}/{MM}/{YYYY}
	PathAnnual                     // .../{YYYY}, one request per year
)

// Upstream endpoint names.
const (
	EndpointForecast      = "prognose"
	EndpointExtrapolation = "hochrechnung"
	EndpointOnline        = "onlinehochrechnung"
	EndpointSpot          = "Spotmarktpreise"
	EndpointNegative      = "NegativePreise"
	EndpointMonthly       = "marktpraemie"
	EndpointAnnual        = "Jahresmarktpraemie"
	EndpointRedispatch    = "redispatch"
	EndpointTrafficLight  = "TrafficLight"
)

// Variant is one combination of discriminator values and the endpoint
// serving it. A variant with an empty Endpoint is retired: it is known, but
// there is no upstream source for it.
type Variant struct {
	Values   map[string]string // discriminator column -> value
	Endpoint string
	Product  string // optional path segment after the endpoint
	Format   Format
	Path     PathStyle
}

// Retired checks if the variant has no upstream endpoint.
func (v Variant) Retired() bool { return v.Endpoint == "" }

// Catalog is the per-table discriminator-to-endpoint mapping. The order of
// variants is the order of the planned requests.
type Catalog map[schema.TableName][]Variant

func renewable(product, category, endpoint, apiProduct string) Variant {
	return Variant{
		Values: map[string]string{
			schema.ColProductType:  product,
			schema.ColDataCategory: category,
		},
		Endpoint: endpoint,
		Product:  apiProduct,
		Format:   FormatCSV,
	}
}

func price(priceType, endpoint string, f Format, p PathStyle) Variant {
	return Variant{
		Values:   map[string]string{schema.ColPriceType: priceType},
		Endpoint: endpoint,
		Format:   f,
		Path:     p,
	}
}

// DefaultCatalog of the Netztransparenz API. Offshore wind is published only
// as an online extrapolation.
func DefaultCatalog() Catalog {
	return Catalog{
		schema.Renewable: {
			renewable("solar", "forecast", EndpointForecast, "Solar"),
			renewable("solar", "extrapolation", EndpointExtrapolation, "Solar"),
			renewable("solar", "online_actual", EndpointOnline, "Solar"),
			renewable("wind_onshore", "forecast", EndpointForecast, "Wind"),
			renewable("wind_onshore", "extrapolation", EndpointExtrapolation, "Wind"),
			renewable("wind_onshore", "online_actual", EndpointOnline, "Windonshore"),
			renewable("wind_offshore", "forecast", "", ""),
			renewable("wind_offshore", "extrapolation", "", ""),
			renewable("wind_offshore", "online_actual", EndpointOnline, "Windoffshore"),
		},
		schema.Prices: {
			price("spot_market", EndpointSpot, FormatCSV, PathDateRange),
			price("negative_flag", EndpointNegative, FormatCSV, PathDateRange),
			price("market_premium", EndpointMonthly, FormatCSV, PathMonthly),
			price("annual_market_value", EndpointAnnual, FormatAnnual, PathAnnual),
		},
		schema.Redispatch: {
			{Endpoint: EndpointRedispatch, Format: FormatCSV},
		},
		schema.GridStatus: {
			{Endpoint: EndpointTrafficLight, Format: FormatJSON},
		},
	}
}

// Known checks if the value appears for the discriminator column in any
// variant of the table, retired or not.
func (c Catalog) Known(table schema.TableName, column, value string) bool {
	for _, v := range c[table] {
		if v.Values[column] == value {
			return true
		}
	}
	return false
}
