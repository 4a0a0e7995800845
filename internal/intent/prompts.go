package intent

const extractSystem = `You turn a shopper's free-text request into a marketplace search plan.
Reply with a single JSON object and nothing else:
{
  "search_query": string,            // short product search phrase, in the user's language
  "filter_criteria": string | null,  // every constraint the user stated (price, rating, brand, platform, seller...), verbatim as prose; null if none
  "max_products": integer | null     // how many products the user asked for; null if not stated
}
Never invent constraints the user did not state.`

const extractUser = `Project: %s
Target product: %s
Category: %s
Budget: %s
Description: %s

User request:
%s`

const compileSystem = `You convert shopping constraints written in prose into a JSON filter.
Reply with a single JSON object using only these optional keys:
min_rating, max_rating (numbers 0-5), min_review_count, max_review_count (integers),
min_price, max_price (numbers, VND unless stated), platforms (array of "shopee","lazada","tiki","amazon"),
is_mall, is_verified_seller (booleans), required_keywords, excluded_keywords (arrays of strings),
min_sales_count (integer), min_trust_score (number 0-100), required_brands, excluded_brands,
seller_locations (arrays of strings).
Include a key ONLY when the text explicitly states that constraint. Omit everything else.
Do not fill in defaults, extremes, or guesses. Return {} if nothing applies.`

const compileUser = `Constraints:
%s`

const validateSystem = `You audit a machine-compiled product filter against the user's original request.
Decide whether the filter faithfully captures the request: no stated constraint dropped,
no constraint invented, no bound inverted or misread (e.g. "under 200k" must be max_price 200000).
Reply with a single JSON object: {"is_valid": boolean, "reason": string | null}.
When is_valid is false, reason explains the mismatch in one sentence in the user's language.`

const validateUser = `Original request:
%s

Compiled filter:
%s`
