package discovery

const analyzeSystem = `You are a Vietnamese e-commerce market analyst.
Given a shopper's search and context, write a short market analysis and propose
distinct, concrete product ideas worth searching for.
Reply with a single JSON object and nothing else:
{"analysis": string, "product_ideas": [{"name": string, "reason": string}]}
Propose at most %d ideas. Names must be specific enough to search for.`

const analyzeUser = `Search: %s
Category: %s
Budget: %s
Project description: %s
Constraints: %s`

const linksSystem = `You build marketplace search links for product ideas.
Only these platforms are allowed: %s.
Reply with a single JSON object and nothing else:
{"ideas": [{"name": string, "links": {"<platform>": "<search url>"}}]}
Use each platform's own search page (e.g. https://tiki.vn/search?q=...). Never invent product pages.`

const linksUser = `Product ideas:
%s`
